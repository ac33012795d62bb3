package cli

// BuildExecArgs constructs the engine arguments that start command inside a
// running container with stdin kept open:
//
//	exec -i [-w workdir] <container> <command...>
//
// No TTY is allocated, so stdout and stderr stay separate streams.
func BuildExecArgs(container, workdir string, command []string) []string {
	args := make([]string, 0, len(command)+5)
	args = append(args, "exec", "-i")

	if workdir != "" {
		args = append(args, "-w", workdir)
	}

	args = append(args, container)
	args = append(args, command...)

	return args
}

// BuildEnvironment returns the environment for engine invocations, pointing
// the engine at dockerHost when one is configured.
func BuildEnvironment(base []string, dockerHost string) []string {
	env := append([]string(nil), base...)

	if dockerHost != "" {
		env = append(env, "DOCKER_HOST="+dockerHost)
	}

	return env
}
