package main

import "joblog/cmd/cli"

func main() {
	cli.Execute()
}
