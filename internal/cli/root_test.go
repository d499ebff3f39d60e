package cli

import "testing"

func TestCredentialsOnlyForUpstreamCommands(t *testing.T) {
	for _, cmd := range rootCmd.Commands() {
		want := false
		switch cmd.Name() {
		case "run", "once", "simulate-forecast":
			want = true
		}
		if got := needsCredentials(cmd); got != want {
			t.Fatalf("%s: needsCredentials = %v, 期望 %v", cmd.Name(), got, want)
		}
	}
	for _, name := range []string{"show", "export", "backfill"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil {
			t.Fatalf("找不到命令 %s: %v", name, err)
		}
		if needsCredentials(cmd) {
			t.Fatalf("%s 不应要求密钥", name)
		}
	}
}
