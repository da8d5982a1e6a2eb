package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/resourcekit/internal/app"
	"github.com/conduit-lang/resourcekit/internal/cli/ui"
	"github.com/conduit-lang/resourcekit/internal/declare"
	"github.com/conduit-lang/resourcekit/pkg/schema"
)

var resourcesFlags = map[string]string{
	"resources": "resources.file",
}

// NewResourcesCommand creates the resources command and its subcommands
func NewResourcesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "List the declared resource types",
		Long: `List the resource types declared in the resources file with the
methods each one supports.

Examples:
  resourcekit resources
  resourcekit resources describe notes
  resourcekit resources check --resources ./resources.yaml`,
		Args: cobra.NoArgs,
		RunE: runResourcesList,
	}
	cmd.PersistentFlags().StringP("resources", "r", "", "Resource declarations file (default resources.yaml)")

	cmd.AddCommand(&cobra.Command{
		Use:   "describe <type>",
		Short: "Show the attributes, relationships and list options of a type",
		Args:  cobra.ExactArgs(1),
		RunE:  runResourcesDescribe,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the declarations and seed data",
		Args:  cobra.NoArgs,
		RunE:  runResourcesCheck,
	})
	return cmd
}

// loadDeclarations loads the resources file named by --resources or the configuration
func loadDeclarations(cmd *cobra.Command) (string, *declare.File, error) {
	cfg, err := loadConfig(cmd.Flags(), resourcesFlags)
	if err != nil {
		return "", nil, err
	}
	file, err := declare.Load(cfg.Resources.File)
	if err != nil {
		return cfg.Resources.File, nil, err
	}
	return cfg.Resources.File, file, nil
}

func runResourcesList(cmd *cobra.Command, args []string) error {
	_, file, err := loadDeclarations(cmd)
	if err != nil {
		return err
	}
	decls, err := file.Declarations()
	if err != nil {
		return err
	}

	table := ui.NewTable(cmd.OutOrStdout(), noColor, "TYPE", "ATTRIBUTES", "RELATIONSHIPS", "METHODS")
	for _, d := range decls {
		table.AddRow(d.Type, fmt.Sprint(len(d.Attributes)), fmt.Sprint(len(d.Relationships)), strings.Join(methods(d), ", "))
	}
	table.Render()
	return nil
}

func runResourcesDescribe(cmd *cobra.Command, args []string) error {
	_, file, err := loadDeclarations(cmd)
	if err != nil {
		return err
	}
	decls, err := file.Declarations()
	if err != nil {
		return err
	}

	var decl *schema.Declaration
	types := make([]string, 0, len(decls))
	for _, d := range decls {
		types = append(types, d.Type)
		if d.Type == args[0] {
			decl = d
		}
	}
	if decl == nil {
		fmt.Fprint(cmd.ErrOrStderr(), ui.UnknownTypeError(args[0], types, noColor))
		return fmt.Errorf("unknown resource type %q", args[0])
	}

	out := cmd.OutOrStdout()
	ui.Header(out, decl.Type, noColor)
	kv := ui.NewKeyValueTable(out, noColor)
	kv.AddRow("methods", strings.Join(methods(decl), ", "))
	if decl.Listable != nil {
		kv.AddRow("filter", strings.Join(filterNames(decl.Listable), ", "))
		kv.AddRow("sort", strings.Join(sortNames(decl.Listable), ", "))
	}
	kv.Render()

	if len(decl.Attributes) > 0 {
		fmt.Fprintln(out)
		attrs := ui.NewTable(out, noColor, "ATTRIBUTE", "SCHEMA", "MODE", "OPTIONAL")
		for _, a := range decl.Attributes {
			attrs.AddRow(a.Name, a.Schema.String(), a.Mode.String(), yesNo(a.Optional))
		}
		attrs.Render()
	}

	if len(decl.Relationships) > 0 {
		fmt.Fprintln(out)
		rels := ui.NewTable(out, noColor, "RELATIONSHIP", "KIND", "TYPES", "MODE", "OPTIONAL")
		for _, r := range decl.Relationships {
			info := r.Info()
			rels.AddRow(info.Name, relationshipKind(r), strings.Join(info.Types, "|"), info.Mode.String(), yesNo(info.Optional))
		}
		rels.Render()
	}
	return nil
}

func runResourcesCheck(cmd *cobra.Command, args []string) error {
	path, file, err := loadDeclarations(cmd)
	if err == nil {
		err = app.Verify(file)
	}
	if err != nil {
		fmt.Fprint(cmd.ErrOrStderr(), ui.DeclarationError(path, err, noColor))
		return fmt.Errorf("%s is invalid", path)
	}

	seeds := 0
	for _, r := range file.Resources {
		seeds += len(r.Seed)
	}
	ui.WriteSuccess(cmd.OutOrStdout(), fmt.Sprintf("%s: %d resource types, %d seeds", path, len(file.Resources), seeds), noColor)
	return nil
}

// methods lists the operations a type supports, in request order
func methods(d *schema.Declaration) []string {
	out := []string{"get"}
	if d.Listable != nil {
		out = append(out, "list")
	}
	if d.Addable {
		out = append(out, "add")
	}
	if d.Updatable {
		out = append(out, "update")
	}
	if d.Removable {
		out = append(out, "remove")
	}
	return out
}

func relationshipKind(r schema.Relationship) string {
	switch {
	case schema.IsMultiple(r):
		return declare.KindToMany
	case schema.IsNullable(r):
		return declare.KindNullableToOne
	default:
		return declare.KindToOne
	}
}

func filterNames(l *schema.Listing) []string {
	names := make([]string, len(l.Filter))
	for i, f := range l.Filter {
		names[i] = f.Name
		if f.Multiple {
			names[i] += "[]"
		}
	}
	sort.Strings(names)
	return names
}

func sortNames(l *schema.Listing) []string {
	names := make([]string, len(l.Sort))
	for i, s := range l.Sort {
		switch s.Direction {
		case schema.SortAscOnly:
			names[i] = s.Name + " (asc)"
		case schema.SortDescOnly:
			names[i] = s.Name + " (desc)"
		default:
			names[i] = s.Name
		}
	}
	return names
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
