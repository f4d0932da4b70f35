package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/studiva/campusbill/internal/clock"
	"github.com/studiva/campusbill/internal/config"
	"github.com/studiva/campusbill/internal/migration"
	"github.com/studiva/campusbill/internal/observability"
	"github.com/studiva/campusbill/internal/server"
	"github.com/studiva/campusbill/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
