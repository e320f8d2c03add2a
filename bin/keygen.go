package main

import (
	"fmt"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-errors/errors"
	"www.velocidex.com/golang/dapreporter/dap"
	"www.velocidex.com/golang/dapreporter/ohttp"
)

var (
	keygen = app.Command("keygen", "Generate aggregator or gateway keys.")

	keygen_hpke = keygen.Command("hpke",
		"Generate an HPKE config for a DAP aggregator.")

	keygen_hpke_id = keygen_hpke.Flag("id", "The config id.").
			Default("1").Uint8()

	keygen_ohttp = keygen.Command("ohttp",
		"Generate a key config for an oblivious HTTP gateway.")

	keygen_ohttp_id = keygen_ohttp.Flag("id", "The key id.").
			Default("1").Uint8()
)

func doKeygenHpke() error {
	config, private_key, err := dap.GenerateHpkeConfig(*keygen_hpke_id)
	if err != nil {
		return err
	}

	fmt.Printf("hpke_config: %v\nprivate_key: %v\n",
		config.String(), encodeKey(private_key))
	return nil
}

func doKeygenOhttp() error {
	config, private_key, err := ohttp.GenerateKeyConfig(*keygen_ohttp_id)
	if err != nil {
		return err
	}

	serialized, err := private_key.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, 0)
	}

	fmt.Printf("ohttp_config: %v\nprivate_key: %v\n",
		config.String(), encodeKey(serialized))
	return nil
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case keygen_hpke.FullCommand():
			kingpin.FatalIfError(doKeygenHpke(), "Keygen")

		case keygen_ohttp.FullCommand():
			kingpin.FatalIfError(doKeygenOhttp(), "Keygen")

		default:
			return false
		}
		return true
	})
}
