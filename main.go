package main

import (
	"os"

	"github.com/fzft/go-evhttp/log"
	"github.com/fzft/go-evhttp/server"
)

func main() {
	if err := log.InitLogger(); err != nil {
		os.Exit(1)
	}
	s := server.NewServer(server.DefaultAddr)
	if err := s.Run(); err != nil {
		os.Exit(1)
	}
}
