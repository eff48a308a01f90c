// Package main implements fakenats, a small deterministic NATS-protocol TCP
// responder for integration testing of the client. It speaks the text
// protocol directly: INFO greeting, CONNECT, PING/PONG, SUB/UNSUB with
// subject wildcards and queue groups, and PUB/HPUB fan-out as MSG/HMSG
// frames. State is in-memory only and per-process.
package main

import (
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
)

var (
	flagAddr    = flag.String("addr", "127.0.0.1:4222", "listen address")
	flagName    = flag.String("name", "fakenats", "server name echoed in the INFO greeting")
	flagVersion = flag.String("version", "2.10.0", "server version echoed in the INFO greeting")
	flagMaxPay  = flag.Int64("max-payload", 1<<20, "max payload advertised in the INFO greeting")
	flagLogConn = flag.Bool("log-conn", true, "log connect/disconnect events")
	flagEcho    = flag.Bool("echo", true, "deliver publishes back to subscriptions on the same connection")
)

func main() {
	flag.Parse()

	listener, err := net.Listen("tcp", *flagAddr)
	if err != nil {
		log.Fatalf("fakenats: listen on %s failed: %v", *flagAddr, err)
	}
	log.Printf("fakenats: listening on %s", listener.Addr())

	server := newServer(serverConfig{
		name:       *flagName,
		version:    *flagVersion,
		maxPayload: *flagMaxPay,
		logConns:   *flagLogConn,
		echo:       *flagEcho,
	})

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		received := <-signals
		log.Printf("fakenats: %v, shutting down", received)
		_ = listener.Close()
	}()

	server.serve(listener)
}
