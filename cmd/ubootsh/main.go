package main

import (
	"github.com/golang/glog"

	"github.com/robotalks/uloader/pkg/cli/sh"

	_ "github.com/robotalks/uloader/pkg/cli/cmds/console"
)

func main() {
	defer glog.Flush()
	sh.Main()
}
