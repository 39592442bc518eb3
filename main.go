package main

import (
	_ "time/tzdata"

	"github.com/Alijeyrad/simorq_calendar/cmd"
)

func main() {
	cmd.Execute()
}
