package main

import "github.com/ValentinKolb/ghostmesh/cmd"

func main() {
	cmd.Execute()
}
