package commands

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gaborage/twinclient/api"
)

func newHealthCommand(rt *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check backend health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, release, err := rt.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			status, err := session.HealthCheck(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}

type requestOptions struct {
	data      string
	anonymous bool
}

func newRequestCommand(rt *app) *cobra.Command {
	opts := &requestOptions{}
	cmd := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "Send an authorized request to a frontend path",
		Long: `Sends a request through the session client. PATH is a frontend path such as
/patients or /brain-models/p-001; it is mapped to the versioned backend route,
the body keys are converted to snake_case, and the response data is printed
with camelCase keys.`,
		Example: `  twinctl request GET /patients/p-001
  twinctl request POST /ml/sentiment --data '{"text":"feeling better"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in any
			if opts.data != "" {
				if !json.Valid([]byte(opts.data)) {
					return errors.New("--data must be valid JSON")
				}
				in = json.RawMessage(opts.data)
			}

			session, release, err := rt.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			reqOpts := []api.RequestOption{api.Endpoint("cli")}
			if opts.anonymous {
				reqOpts = append(reqOpts, api.Anonymous())
			}
			var out json.RawMessage
			if _, err := session.Request(cmd.Context(), strings.ToUpper(args[0]), args[1], in, &out, reqOpts...); err != nil {
				return err
			}
			if len(out) == 0 {
				return nil
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&opts.data, "data", "d", "", "JSON request body")
	cmd.Flags().BoolVar(&opts.anonymous, "anonymous", false, "Send without authorization")
	return cmd
}

func newPatientsCommand(rt *app) *cobra.Command {
	opts := api.ListOptions{}
	cmd := &cobra.Command{
		Use:   "patients",
		Short: "List patients",
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, release, err := rt.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			page, err := session.ListPatients(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), struct {
				Patients []api.Patient `json:"patients"`
				Meta     api.PageMeta  `json:"meta"`
			}{page.Patients, page.Meta})
		},
	}
	cmd.Flags().IntVar(&opts.Page, "page", 0, "Page number, starting at 1")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Page size, at most 100")
	return cmd
}
