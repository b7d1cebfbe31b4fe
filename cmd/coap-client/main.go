// Command coap-client issues a single CoAP GET against a URL and prints
// the response payload, in the spirit of the classic coap-client CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/lobaro/go-coap-core/client"
	"github.com/lobaro/go-coap-core/socket"
	"github.com/sirupsen/logrus"
)

func main() {
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: coap-client [-timeout 5s] [-v] coap://host[:port]/path")
		os.Exit(2)
	}
	url := flag.Arg(0)

	pc, err := socket.BindUDP(&net.UDPAddr{Port: 0})
	if err != nil {
		logrus.WithError(err).Fatal("failed to bind local UDP socket")
	}
	d := socket.New(pc)
	defer d.Close()

	c := client.New(d)
	c.Timeout = *timeout

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	payload, err := c.Get(ctx, url)
	if err != nil {
		logrus.WithError(err).Fatal("request failed")
	}

	os.Stdout.Write(payload)
	fmt.Println()
}
