package main

import "lastpatch/cmd/cli"

func main() {
	cli.Execute()
}
