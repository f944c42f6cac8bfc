package main

import "printshop/internal/cli"

func main() {
	cli.Execute()
}
