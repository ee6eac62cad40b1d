package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/martinemde/utgen/agentloop"
	"github.com/martinemde/utgen/kbtools"
	"github.com/martinemde/utgen/unifiedllm"
)

func toolsCmd(a *app) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered to the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := agentloop.NewToolRegistry()
			if err := kbtools.Register(reg, nil, ""); err != nil {
				return err
			}
			defs := append(reg.Definitions(), agentloop.TerminateDefinition())

			if jsonOutput {
				data, err := json.MarshalIndent(defs, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, string(data))
				return nil
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "NAME\tPARAMETERS\tDESCRIPTION\n")
			for _, spec := range append(reg.ListTools(), agentloop.ToolSpec{
				Name:        agentloop.TerminateTool,
				Description: agentloop.TerminateDefinition().Description,
			}) {
				params := make([]string, 0, len(spec.Parameters))
				for name, p := range spec.Parameters {
					params = append(params, fmt.Sprintf("%s:%s", name, p.Type))
				}
				sort.Strings(params)
				paramText := strings.Join(params, ",")
				if paramText == "" {
					paramText = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", spec.Name, paramText, spec.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output tool definitions as JSON")
	return cmd
}

func treeCmd(a *app) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the call hierarchy of the knowledge base",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.loadStore()
			if err != nil {
				return err
			}
			if jsonOutput {
				out, err := store.Hierarchy().JSONTree()
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, out)
				return nil
			}
			fmt.Fprintln(a.stdout, store.Hierarchy().ASCIITree())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print symbol names as a JSON tree")
	return cmd
}

func symbolCmd(a *app) *cobra.Command {
	var deps bool
	cmd := &cobra.Command{
		Use:   "symbol NAME",
		Short: "Show what the model sees for a symbol",
		Long: "Print the GET_DETAIL_FOR_ONE result for NAME. With --deps, NAME is taken as\n" +
			"the function under test and its GET_FUNCTION_UT_DEPENDENCY result is printed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.loadStore()
			if err != nil {
				return err
			}
			reg := agentloop.NewToolRegistry()
			if err := kbtools.Register(reg, store, args[0]); err != nil {
				return err
			}

			tool, raw := kbtools.GetDetailForOne, json.RawMessage(nil)
			if deps {
				tool = kbtools.GetFunctionUTDependency
			} else {
				raw, err = json.Marshal(map[string]string{"symbol_name": args[0]})
				if err != nil {
					return err
				}
			}
			out, err := reg.Invoke(cmd.Context(), tool, raw)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&deps, "deps", false, "list the direct dependencies of the function instead")
	return cmd
}

func modelsCmd(a *app) *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models in the built-in catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "PROVIDER\tMODEL\tCONTEXT\tALIASES\n")
			for _, m := range unifiedllm.ListModels(provider) {
				marker := ""
				if m.ID == a.cfg.LLM.Model {
					marker = " *"
				}
				fmt.Fprintf(tw, "%s\t%s%s\t%d\t%s\n", m.Provider, m.ID, marker, m.ContextWindow, strings.Join(m.Aliases, ","))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "only list models of this provider")
	return cmd
}
