package main

import "claude-gateway/cmd"

func main() {
	cmd.Execute(GetVersionInfo(), GetBuildInfo())
}
