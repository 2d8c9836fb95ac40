package main

import "LegisGraph/backend/go/client/kgctl/cmd"

func main() {
	cmd.Execute()
}
