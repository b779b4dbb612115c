package main

import (
	"fmt"

	"github.com/fatih/color"
)

const logo = "\n" +
	"   ____                _           _\n" +
	"  / ___|___  _ __   __| |_   _  ___| |_ ___  _ __\n" +
	" | |   / _ \\| '_ \\ / _` | | | |/ __| __/ _ \\| '__|\n" +
	" | |__| (_) | | | | (_| | |_| | (__| || (_) | |\n" +
	"  \\____\\___/|_| |_|\\__,_|\\__,_|\\___|\\__\\___/|_|\n"

func printHeader(title string) {
	fmt.Println(color.CyanString(logo))
	if title != "" {
		fmt.Println(title)
		fmt.Println("─────────────────────")
	}
}
