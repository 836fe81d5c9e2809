package main

import "github.com/encodeous/lsnet/cmd"

func main() {
	cmd.Execute()
}
