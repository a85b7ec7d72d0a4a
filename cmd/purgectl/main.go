// Точка входа purgectl: терминальный клиент аудита облачного хранилища.
package main

import (
	"fmt"
	"os"

	"github.com/bigkaa/goartstore/purge-module/internal/cli"
	"github.com/bigkaa/goartstore/purge-module/internal/config"
)

func main() {
	if err := cli.NewRootCommand(config.Version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Ошибка:", err)
		os.Exit(1)
	}
}
