package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/twopc-transfer/client"
)

const defaultServerAddress = "localhost:11000"

var serverAddress string

func init() {
	flag.StringVarP(&serverAddress, "server", "s", defaultServerAddress,
		"Coordinator HTTP address")
	flag.Usage = func() {
		log.Errorf("Usage: %s [options]\n", os.Args[0])
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	c := client.NewTransferClient(serverAddress)
	c.Run()
}
