/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/biblioteca-yeak8/apiserver/cmd"

func main() {
	cmd.Execute()
}
