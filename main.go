package main

import "github.com/markb/filepulse/cmd"

func main() {
	cmd.Execute()
}
