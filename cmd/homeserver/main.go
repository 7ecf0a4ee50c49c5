// Command homeserver runs the in-memory dev chat server so two local
// peerlink instances can pair without touching the public relay set.
//
// Example:
//
//	homeserver -addr 127.0.0.1:8008 -server-name http://127.0.0.1:8008
//	peerlink --home /tmp/a --node http://127.0.0.1:8008 pair
//	peerlink --home /tmp/b --node http://127.0.0.1:8008 respond req.json
package main

import (
	"flag"
	"net/http"

	"go.uber.org/zap"

	"peerlink/internal/homeserver"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8008", "listen address")
	serverName := flag.String("server-name", "", "node string clients use (default http://<addr>)")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	name := *serverName
	if name == "" {
		name = "http://" + *addr
	}

	srv := homeserver.New(name, logger)
	logger.Info("homeserver listening", zap.String("addr", *addr), zap.String("server_name", name))
	if err := http.ListenAndServe(*addr, srv); err != nil {
		logger.Fatal("serve", zap.Error(err))
	}
}
