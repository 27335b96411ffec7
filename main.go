package main

import "github.com/auctionlens/itemtrack/cmd"

func main() {
	cmd.Execute()
}
