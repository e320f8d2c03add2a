/*
Velociraptor - Dig Deeper
Copyright (C) 2019-2025 Rapid7 Inc.

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package constants

import "time"

var (
	VERSION    = "0.1.0"
	USER_AGENT = "dapreporter/" + VERSION

	// Set at link time by the build.
	BUILD_TIME  = ""
	COMMIT_HASH = ""

	// Media types used on the wire.
	DAP_REPORT_MEDIA_TYPE     = "application/dap-report"
	OHTTP_REQUEST_MEDIA_TYPE  = "message/ohttp-req"
	OHTTP_RESPONSE_MEDIA_TYPE = "message/ohttp-res"

	// Persisted databases and their stores.
	SUBMISSION_CAP_DB = "SubmissionCap"
	REPORT_COUNTER_DB = "ReportCounter"

	FREQ_CAPS_STORE = "freq_caps"
	REPORTS_STORE   = "reports"
	BUDGETS_STORE   = "budgets"

	// Env vars consulted by the config loader.
	DAP_CONFIG_ENV         = "DAP_REPORTER_CONFIG"
	DAP_CONFIG_LITERAL_ENV = "DAP_REPORTER_CONFIG_LITERAL"
)

const (
	// A visit counter slot never exceeds this value.
	MAX_VISIT_COUNT = 1

	// Non-zero visit reports allowed per budget window.
	MAX_REPORTS = 1

	DEFAULT_BUDGET_WINDOW_DAYS  = 7
	DEFAULT_CAP_WINDOW_DAYS     = 1
	DEFAULT_SUBMISSION_INTERVAL = 24 * 60 // minutes
	DEFAULT_MAX_CONCURRENCY     = 8

	DEFAULT_TIMEOUT          = 30 * time.Second
	DEFAULT_SHUTDOWN_TIMEOUT = 2 * time.Second

	DEFAULT_FLAG_POLL = 30 * time.Second
)
