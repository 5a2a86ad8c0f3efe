// Synth prints the descriptor of the configured stack without touching any AWS account.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/monica-infra/deployer/pkg/config"
	"github.com/monica-infra/deployer/pkg/descriptor"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.New()
	if err != nil {
		return err
	}

	variant := flag.String("variant", cfg.Descriptor.Variant, "descriptor variant, one of v1, v2, v3")
	format := flag.String("format", string(descriptor.FormatYAML), "output format, one of yaml, json")
	flag.Parse()

	f, err := descriptor.ParseFormat(*format)
	if err != nil {
		return err
	}

	options, err := descriptor.Variant(*variant)
	if err != nil {
		return err
	}

	d, err := descriptor.New(cfg.Descriptor, options).Build()
	if err != nil {
		return err
	}

	data, err := descriptor.Synth(d, f)
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(data)
	return err
}
