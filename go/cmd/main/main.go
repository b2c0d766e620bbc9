package main

import (
	"github.com/lunixbochs/nxload/go/cmd"

	_ "github.com/lunixbochs/nxload/go/cmd/detect"
	_ "github.com/lunixbochs/nxload/go/cmd/dump"
	_ "github.com/lunixbochs/nxload/go/cmd/info"
	_ "github.com/lunixbochs/nxload/go/cmd/load"
)

func main() { cmd.Main() }
