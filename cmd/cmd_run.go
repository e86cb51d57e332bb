// cmd_run.go - Generierung gegen die Referenz-Engine
// Hauptfunktionen: newRunCmd, runHandler
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/7blacky7/infera/api"
	"github.com/7blacky7/infera/engine"
	"github.com/7blacky7/infera/session"
)

// newRunCmd - Fuehrt eine Generierung auf der deterministischen Mock-Engine aus
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run PROMPT",
		Short: "Run a generation against the built-in reference engine",
		Long: `Run a generation against the built-in reference engine.

The reference engine is deterministic: identical inputs yield identical
output, which makes it useful for exercising grammars, stop sequences
and session behavior without a model file. Ctrl-C aborts the generation
at the next token boundary; partial output is kept.`,
		Args: cobra.ExactArgs(1),
		RunE: runHandler,
	}

	cmd.Flags().String("model", "reference.bin", "Model path fed into the engine hash")
	cmd.Flags().String("grammar", "", "GBNF grammar file constraining the output")
	cmd.Flags().String("schema", "", "JSON schema file constraining the output")
	cmd.Flags().StringArray("image", nil, "Image file referenced as [img-N] in the prompt")
	cmd.Flags().Int("num-predict", 64, "Maximum number of tokens to generate")
	cmd.Flags().Float32("temperature", 0, "Sampling temperature (0 = greedy)")
	cmd.Flags().Int("seed", -1, "Sampler seed (-1 = random)")
	cmd.Flags().StringArray("stop", nil, "Stop sequence ending the generation")

	return cmd
}

func runHandler(cmd *cobra.Command, args []string) error {
	req, params, err := buildRequest(cmd, args[0])
	if err != nil {
		return err
	}

	s, err := session.Open(&engine.Mock{}, params)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT)
	defer signal.Stop(sigChan)

	go func() {
		<-sigChan
		cancel()
	}()

	out := cmd.OutOrStdout()
	err = s.Generate(ctx, req, func(r api.GenerateResponse) {
		if r.Done {
			fmt.Fprintf(cmd.ErrOrStderr(), "\n\n[%s] prompt %d tokens in %s, eval %d tokens in %s\n",
				r.DoneReason, r.PromptEvalCount, r.PromptEvalDuration, r.EvalCount, r.EvalDuration)
			return
		}
		fmt.Fprint(out, r.Content)
	})
	if err != nil {
		return err
	}

	return nil
}

// buildRequest - Baut Request und Session-Parameter aus den Flags
func buildRequest(cmd *cobra.Command, prompt string) (api.GenerateRequest, session.Params, error) {
	var req api.GenerateRequest
	var params session.Params

	req.Prompt = prompt
	req.Options = api.DefaultOptions()
	params.ModelPath, _ = cmd.Flags().GetString("model")

	req.Options.NumPredict, _ = cmd.Flags().GetInt("num-predict")
	req.Options.Temperature, _ = cmd.Flags().GetFloat32("temperature")
	req.Options.Seed, _ = cmd.Flags().GetInt("seed")
	req.Options.Stop, _ = cmd.Flags().GetStringArray("stop")

	if path, _ := cmd.Flags().GetString("grammar"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return req, params, err
		}
		req.Grammar = string(data)
	}
	if path, _ := cmd.Flags().GetString("schema"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return req, params, err
		}
		req.Format = json.RawMessage(data)
	}

	images, _ := cmd.Flags().GetStringArray("image")
	for _, path := range images {
		data, err := os.ReadFile(path)
		if err != nil {
			return req, params, err
		}
		req.Images = append(req.Images, api.ImageData(data))
	}
	if len(req.Images) > 0 {
		// Ohne Projektor keine Bild-Slots
		params.ProjectorPath = "projector.bin"
	}

	return req, params, nil
}
