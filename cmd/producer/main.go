package main

import (
	"github.com/YaganovValera/iggy-clients/internal/app"
	"github.com/YaganovValera/iggy-clients/internal/config"
)

func main() {
	app.Main(app.NewCommand(config.RoleProducer,
		"Sends a JSON message to the configured stream/topic/partition at a fixed interval",
		app.RunProducer,
	))
}
