// Package systemd holds the deployment unit and environment-file
// templates written by convpool init, plus the install-time unit
// integrity check.
package systemd

// CoordinatorUnit returns the systemd unit for the convpool coordinator.
// Conversion settings come from the environment file so they can change
// without editing the unit.
func CoordinatorUnit() string {
	return `[Unit]
Description=Convpool media-conversion coordinator
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
User=convpool
EnvironmentFile=/etc/convpool/coordinator.env
ExecStart=/usr/local/bin/convpool serve --addr :8000 --intake /var/lib/convpool/intake
Restart=on-failure
RestartSec=2
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=true
ReadWritePaths=/var/lib/convpool

[Install]
WantedBy=multi-user.target
`
}

// WorkerUnit returns the systemd unit for a convnode worker. The
// coordinator URL lives in the environment file; workers exit on failure
// and systemd re-registers them by restarting.
func WorkerUnit() string {
	return `[Unit]
Description=Convpool conversion worker
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
User=convnode
EnvironmentFile=/etc/convpool/worker.env
ExecStart=/usr/local/bin/convnode ${CONVPOOL_URL}
WorkingDirectory=/var/lib/convnode
Restart=on-failure
RestartSec=5
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=true
ReadWritePaths=/var/lib/convnode

[Install]
WantedBy=multi-user.target
`
}

// CoordinatorEnvFile returns the environment file consumed by the
// coordinator unit: the conversion settings served on /info.
func CoordinatorEnvFile() string {
	return `# Convpool coordinator configuration.
# The coordinator reads these on every /info and /push request, so edits
# take effect without a restart.
FFMPEG_COMMAND=ffmpeg -i [input] -f webm [output].webm
FILE_EXTENSION=.webm
COMPLETED_PATH=/var/lib/convpool/completed
RSYNC_USER=convpool
`
}

// WorkerEnvFile returns the environment file consumed by the worker unit.
func WorkerEnvFile() string {
	return `# Convnode worker configuration.
CONVPOOL_URL=http://coordinator:8000
`
}
