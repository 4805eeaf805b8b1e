package main

import "github.com/frahmantamala/asset-loan/cmd"

func main() {
	cmd.Execute()
}
