package main

import (
	"github.com/YaganovValera/iggy-clients/internal/app"
	"github.com/YaganovValera/iggy-clients/internal/config"
)

func main() {
	app.Main(app.NewCommand(config.RoleConsumer,
		"Polls the configured stream/topic/partition and logs every message",
		app.RunConsumer,
	))
}
