package main

import "github.com/screen-recorder/screen-recorder/cmd/screenrecorder/commands"

func main() {
	commands.Execute()
}
