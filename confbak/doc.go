/*
This is the main application for the confbak tool.

Confbak retrieves configuration from multiple network devices, keeps a
versioned per-device snapshot history, and can roll a device back to any
stored snapshot.

Usage:

	confbak [flag]

Flags are:

	-configPathPrefix string
	      configuration path prefix
	-deviceDelete
	      delete devices specified in stdin
	-deviceImport
	      import devices from stdin
	-deviceList
	      list devices to stdout
	-diff string
	      print diff between two snapshots and exit: device:seqFrom:seqTo
	-disableStdoutLog
	      disable logging to stdout
	-logCheckInterval duration
	      interval for checking log file size
	-logMaxFiles int
	      number of log files to keep
	-logMaxSize int
	      size limit for log file
	-logPathPrefix string
	      log path prefix
	-repositoryPath string
	      snapshot repository path
	-rollback string
	      roll device back to a snapshot and exit: device:seq
	-runOnce
	      exit after backing up all devices once
	-s3region string
	      AWS S3 region
	-webListen string
	      address:port for web UI
	-wwwStaticPath string
	      directory for static www content

By default, confbak looks for these path prefixes under $CONFBAK_HOME:

	etc/confbak.conf. (can be overridden with -configPathPrefix)
	log/confbak.log.  (can be overridden with -logPathPrefix)
	repo              (can be overridden with -repositoryPath)
	www               (can be overridden with -wwwStaticPath)

If $CONFBAK_HOME is not defined, confbak home defaults to /var/confbak.

Since root privileges are usually not needed, run the confbak application as a regular user.
*/
package main
