package main

import "github.com/khanhnv2901/netlab/cmd"

var execCmd = cmd.Execute

func main() {
	execCmd()
}
