package main

import (
	"os"

	teamboard "github.com/teamboard/relay/app"
)

func main() {
	app := teamboard.New(nil, nil)
	app.Start()
	os.Exit(app.Wait())
}
