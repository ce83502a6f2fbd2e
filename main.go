package main

import "jobinsights/internal/app"

func main() {
	app.Main()
}
