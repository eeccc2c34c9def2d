package main

import "github.com/nextlevelbuilder/minds/cmd"

func main() {
	cmd.Execute()
}
