package checks

import "context"

// ExampleCheck verifies that the default_db connection string resolves
// for the requested date.
type ExampleCheck struct{}

func (ExampleCheck) ID() string { return "example_check" }

func (ExampleCheck) Description() string {
	return "An example check that verifies connection string availability"
}

func (ExampleCheck) Parameters() []ParameterDefinition {
	return []ParameterDefinition{{
		Name:        "target_date",
		Description: "The date to check data for",
	}}
}

func (ExampleCheck) Execute(ctx context.Context, cc Context, params Params) (Result, error) {
	if _, ok := params["target_date"]; !ok {
		return Result{}, ConfigError("Missing target_date")
	}
	if _, err := cc.ConnectionString(ctx, "default_db"); err != nil {
		return Result{}, ExecutionError("resolve default_db", err)
	}
	// Resolving default_db is the whole check. No query runs against it.
	return Result{Status: StatusSuccess, Message: "Data verified successfully"}, nil
}
