package main

import "github.com/mselser95/slot-auction/cmd"

func main() {
	cmd.Execute()
}
