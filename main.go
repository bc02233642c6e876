package main

import (
	"fmt"
	"os"

	chatsync "github.com/putto11262002/chatsync/app"
)

func main() {
	loader := &chatsync.FileConfigLoader{}
	config, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	app, err := chatsync.New(nil, config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	app.Start()
}
