package main

import "github.com/habibrodriguez7-art/changelog-bot/cmd"

func main() {
	cmd.Execute()
}
