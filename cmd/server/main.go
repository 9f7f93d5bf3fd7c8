package main

import "github.com/Brownie44l1/color-api/internal/cli"

func main() {
	cli.Execute()
}
