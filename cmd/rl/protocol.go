package main

import (
	"fmt"
	"maps"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"regionline/internal/action"
	"regionline/internal/app"
	"regionline/internal/naming"
	"regionline/internal/update"
	"regionline/internal/wire"
	regionsdk "regionline/sdk/go"
)

// regionFlags collects --fragment name=path and --arg name.key=value pairs.
type regionFlags struct {
	fragments []string
	args      []string
}

func (f *regionFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.fragments, "fragment", nil, "region to render as name=path (repeatable)")
	cmd.Flags().StringArrayVar(&f.args, "arg", nil, "region argument as name.key=value (repeatable)")
}

func (f *regionFlags) requests() ([]update.FragmentRequest, error) {
	var out []update.FragmentRequest
	index := map[string]int{}
	for _, raw := range f.fragments {
		name, path, ok := strings.Cut(raw, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid --fragment %q; want name=path", raw)
		}
		index[name] = len(out)
		out = append(out, update.FragmentRequest{Region: name, Path: path, Args: map[string]string{}})
	}
	for _, raw := range f.args {
		key, value, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --arg %q; want name.key=value", raw)
		}
		name, arg, ok := strings.Cut(key, ".")
		if !ok || arg == "" {
			return nil, fmt.Errorf("invalid --arg %q; want name.key=value", raw)
		}
		i, known := index[name]
		if !known {
			return nil, fmt.Errorf("--arg %q names region %q without a --fragment", raw, name)
		}
		out[i].Args[arg] = value
	}
	return out, nil
}

// actionFlags collects --action moniker=Class and --field moniker.field=value.
type actionFlags struct {
	actions []string
	fields  []string
}

func (f *actionFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.actions, "action", nil, "action to run as moniker=Class (repeatable, run in flag order)")
	cmd.Flags().StringArrayVar(&f.fields, "field", nil, "action argument as moniker.field=value (repeatable)")
}

func (f *actionFlags) wire() (map[string]*wire.Action, error) {
	out := map[string]*wire.Action{}
	for i, raw := range f.actions {
		moniker, class, ok := strings.Cut(raw, "=")
		if !ok || moniker == "" || class == "" {
			return nil, fmt.Errorf("invalid --action %q; want moniker=Class", raw)
		}
		order := i
		out[moniker] = &wire.Action{Moniker: moniker, Class: class, Order: &order, Fields: map[string]map[string]*wire.FieldValue{}}
	}
	for _, raw := range f.fields {
		moniker, field, value, err := splitField(raw)
		if err != nil {
			return nil, err
		}
		a, ok := out[moniker]
		if !ok {
			return nil, fmt.Errorf("--field %q names action %q without an --action", raw, moniker)
		}
		a.Set(field, naming.RoleValue.String(), value)
	}
	return out, nil
}

// query renders the actions as a validator query string.
func (f *actionFlags) query() (string, error) {
	var parts []string
	classes := map[string]bool{}
	for _, raw := range f.actions {
		moniker, class, ok := strings.Cut(raw, "=")
		if !ok || moniker == "" || class == "" {
			return "", fmt.Errorf("invalid --action %q; want moniker=Class", raw)
		}
		classes[moniker] = true
		parts = append(parts, url.QueryEscape(naming.RegistrationName(moniker, -1))+"="+url.QueryEscape(class))
	}
	for _, raw := range f.fields {
		moniker, field, value, err := splitField(raw)
		if err != nil {
			return "", err
		}
		if !classes[moniker] {
			return "", fmt.Errorf("--field %q names action %q without an --action", raw, moniker)
		}
		parts = append(parts, url.QueryEscape(naming.FieldName(naming.RoleValue, field, moniker))+"="+url.QueryEscape(value))
	}
	return action.ValidateFlag + "=1&" + strings.Join(parts, "&"), nil
}

func splitField(raw string) (moniker, field, value string, err error) {
	key, value, ok := strings.Cut(raw, "=")
	if !ok {
		return "", "", "", fmt.Errorf("invalid --field %q; want moniker.field=value", raw)
	}
	moniker, field, ok = strings.Cut(key, ".")
	if !ok || moniker == "" || field == "" {
		return "", "", "", fmt.Errorf("invalid --field %q; want moniker.field=value", raw)
	}
	return moniker, field, value, nil
}

func newClient(cmd *cobra.Command) (*regionsdk.Client, error) {
	cfg, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	base, _ := cmd.Flags().GetString("server")
	if base == "" {
		base = viper.GetString("server")
	}
	if base == "" {
		base = cfg.Client.BaseURL
	}
	c := regionsdk.New(base)
	c.WebservicePath = cfg.Server.WebservicePath
	c.ValidatorPath = cfg.Server.ValidatorPath
	c.APIBasePath = cfg.Server.BasePath
	c.Headers = cfg.Client.Headers
	if c.Timeout, err = cfg.ClientTimeout(); err != nil {
		return nil, err
	}
	return c, nil
}

func addServerFlag(cmd *cobra.Command) {
	cmd.Flags().String("server", "", "server base URL (overrides config client.base_url and REGIONLINE_SERVER)")
}

func updateCmd() *cobra.Command {
	var regions regionFlags
	var actions actionFlags
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Send one combined update",
		Long:  "Runs the given actions and renders the given regions in a single webservice request, then prints the results and fragments.",
		Example: `  rl update --action create-1=CreateTodo --field create-1.title="buy milk" \
    --fragment __page-todo_list=/fragments/todolist --arg __page-todo_list.status=open`,
		RunE: func(cmd *cobra.Command, args []string) error {
			frags, err := regions.requests()
			if err != nil {
				return err
			}
			acts, err := actions.wire()
			if err != nil {
				return err
			}
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			req := wire.NewRequest(client.WebservicePath)
			req.Actions = acts
			for _, f := range frags {
				req.Fragments[f.Region] = &wire.Fragment{Name: f.Region, Path: f.Path, Args: f.Args}
				path := f.Path
				req.Variables[wire.RegionIDPrefix+f.Region] = &path
				for k, v := range f.Args {
					req.Variables[wire.RegionIDPrefix+f.Region+"."+k] = &v
				}
			}
			if req.Empty() {
				return fmt.Errorf("nothing to send; give at least one --action or --fragment")
			}
			resp, err := client.Send(cmd.Context(), req, nil)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(resp)
			}
			printResponse(resp)
			return nil
		},
	}
	regions.bind(cmd)
	actions.bind(cmd)
	addServerFlag(cmd)
	return cmd
}

func printResponse(resp *wire.Response) {
	if len(resp.Results) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Moniker", "Class", "Success", "Message", "Field errors"})
		for _, r := range resp.Results {
			msg := r.Message
			if r.Error != "" {
				msg = r.Error
			}
			var fieldErrs []string
			errs := r.FieldErrors()
			for _, name := range slices.Sorted(maps.Keys(errs)) {
				fieldErrs = append(fieldErrs, name+": "+errs[name])
			}
			tw.AppendRow(table.Row{r.Moniker, r.Class, r.Success, msg, strings.Join(fieldErrs, "\n")})
		}
		tw.Render()
	}
	for _, f := range resp.Fragments {
		fmt.Printf("--- %s", f.ID)
		for _, k := range slices.Sorted(maps.Keys(f.Arguments)) {
			fmt.Printf(" %s=%s", k, f.Arguments[k])
		}
		fmt.Println()
		fmt.Println(f.Content)
	}
	if resp.Redirect != "" {
		fmt.Printf("redirect: %s\n", resp.Redirect)
	}
}

func validateCmd() *cobra.Command {
	var actions actionFlags
	cmd := &cobra.Command{
		Use:     "validate",
		Short:   "Ask the validator about action arguments",
		Example: `  rl validate --action create-1=CreateTodo --field create-1.title="  buy  milk"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := actions.query()
			if err != nil {
				return err
			}
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			v, err := client.Validate(cmd.Context(), query)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(v)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Action", "Kind", "Target", "Text"})
			for _, a := range v.Actions {
				for _, item := range a.Items {
					tw.AppendRow(table.Row{a.ID, item.Kind, item.ID, item.Text})
				}
			}
			for _, c := range v.Canonicalizations {
				for _, u := range c.Updates {
					tw.AppendRow(table.Row{c.ID, "update", u.Name, u.Value})
				}
				for _, n := range c.Notes {
					tw.AppendRow(table.Row{c.ID, "note", n.ID, n.Text})
				}
			}
			tw.Render()
			return nil
		},
	}
	actions.bind(cmd)
	addServerFlag(cmd)
	return cmd
}

func preloadKeyCmd() *cobra.Command {
	var regions regionFlags
	cmd := &cobra.Command{
		Use:   "preload-key",
		Short: "Print the cache key a preload of the given regions is stored under",
		RunE: func(cmd *cobra.Command, args []string) error {
			frags, err := regions.requests()
			if err != nil {
				return err
			}
			if len(frags) == 0 {
				return fmt.Errorf("--fragment required")
			}
			fmt.Println(update.PreloadKey(frags))
			return nil
		},
	}
	regions.bind(cmd)
	return cmd
}

func pageCmd() *cobra.Command {
	var session pageSession
	cmd := &cobra.Command{
		Use:   "page [path]",
		Short: "Fetch a served page, optionally driving one update against it",
		Long: "Without flags the page markup is printed. With --trigger or --fragment the page is parsed, " +
			"fields given by --set are filled in, the trigger is clicked and the returned fragments are " +
			"applied to the document; the updated regions, results and messages are printed.",
		Example: `  rl page --set create-1.title="buy milk" --trigger '#create-submit' \
    --fragment __page-todo_list=/fragments/todolist`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session.path = "/"
			if len(args) == 1 {
				session.path = args[0]
			}
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			markup, err := client.Page(cmd.Context(), session.path)
			if err != nil {
				return err
			}
			if !session.active() {
				fmt.Println(markup)
				return nil
			}
			run, err := session.run(cmd.Context(), client, markup, newLogger())
			if run != nil {
				if viper.GetBool("json") {
					if jerr := printJSON(run); jerr != nil {
						return jerr
					}
				} else {
					run.print(os.Stdout)
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&session.trigger, "trigger", "", "CSS selector of the button to click")
	cmd.Flags().StringArrayVar(&session.set, "set", nil, "field value to fill in as moniker.field=value (repeatable)")
	session.regions.bind(cmd)
	addServerFlag(cmd)
	return cmd
}
