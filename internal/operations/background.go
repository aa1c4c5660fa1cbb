package operations

// BackgroundSyncCommand is the hidden subcommand run by SpawnBackgroundSync
const BackgroundSyncCommand = "_internal_background_sync"

func backgroundArgs(configPath string) []string {
	args := []string{BackgroundSyncCommand}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return args
}
