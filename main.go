package main

import "github.com/mearec/mealog/cmd"

func main() {
	cmd.Execute()
}
