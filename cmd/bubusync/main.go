package main

import "bubusync/cmd/bubusync/cmd"

func main() {
	cmd.Execute()
}
