/*
   Velociraptor - Hunting Evil
   Copyright (C) 2019 Velocidex Innovations.

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
/* An internal package with test utilities.
 */

package vtesting

import (
	"crypto/rand"
	"encoding/base64"
	"runtime/debug"
	"testing"
	"time"

	"github.com/cloudflare/circl/kem"
	config_proto "www.velocidex.com/golang/dapreporter/config/proto"
	"www.velocidex.com/golang/dapreporter/dap"
)

func WaitUntil(deadline time.Duration, t *testing.T, cb func() bool) {
	end_time := time.Now().Add(deadline)

	for end_time.After(time.Now()) {
		ok := cb()
		if ok {
			return
		}

		time.Sleep(50 * time.Millisecond)
	}

	t.Fatalf("Timed out %s", debug.Stack())
}

// A leader or helper key pair for tests.
type TestAggregator struct {
	Config     *dap.HpkeConfig
	PrivateKey kem.PrivateKey
}

func NewTestAggregator(t *testing.T, id uint8) *TestAggregator {
	config, private_bytes, err := dap.GenerateHpkeConfig(id)
	if err != nil {
		t.Fatalf("GenerateHpkeConfig: %v", err)
	}

	private_key, err := config.ParsePrivateKey(
		encodeBase64URL(private_bytes))
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}

	return &TestAggregator{Config: config, PrivateKey: private_key}
}

// A config with freshly generated aggregator keys.
func GetTestConfig(t *testing.T, leader, helper *TestAggregator) *config_proto.Config {
	return &config_proto.Config{
		Client: &config_proto.ClientConfig{
			LeaderEndpoint:            "http://leader.invalid/v1",
			HelperEndpoint:            "http://helper.invalid/v1",
			LeaderHpkeConfig:          leader.Config.String(),
			HelperHpkeConfig:          helper.Config.String(),
			SubmissionIntervalMinutes: 60,
			CapWindowDays:             1,
			TimeoutSeconds:            5,
			ShutdownTimeoutSeconds:    1,
			MaxConcurrency:            4,
		},
		Datastore: &config_proto.DatastoreConfig{
			Implementation: "memory",
		},
		Logging: &config_proto.LoggingConfig{},
		VisitCounting: &config_proto.VisitCountingConfig{
			BudgetWindowDays: 7,
			MaxReports:       1,
			MaxVisitCount:    1,
		},
		Features: &config_proto.FeaturesConfig{Enabled: true},
	}
}

func encodeBase64URL(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// A random valid task id.
func NewTaskId(t *testing.T) string {
	raw := make([]byte, dap.TASK_ID_LENGTH)
	_, err := rand.Read(raw)
	if err != nil {
		t.Fatalf("rand: %v", err)
	}
	return encodeBase64URL(raw)
}
