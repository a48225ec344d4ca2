package main

import "grantwatch/internal/cli"

func main() {
	cli.Execute()
}
