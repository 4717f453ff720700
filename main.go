package main

import "github.com/willowdb/willow/cmd"

func main() {
	cmd.Execute()
}
