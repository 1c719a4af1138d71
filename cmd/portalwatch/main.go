package main

import "portalwatch-backend/cmd/portalwatch/cmd"

func main() {
	cmd.Execute()
}
