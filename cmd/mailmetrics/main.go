package main

import "github.com/aevon-lab/mailmetrics/internal/app"

func main() {
	app.Execute()
}
