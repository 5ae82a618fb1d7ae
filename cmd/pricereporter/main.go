package main

import "steam-price-reporter/internal/cli"

func main() {
	cli.Execute()
}
