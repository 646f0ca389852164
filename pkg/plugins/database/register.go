package database

import (
	"context"

	"github.com/selune-dev/selune/pkg/tools"
)

// RegisterTools registers the customer database tools for one customer.
func RegisterTools(registry *tools.Registry, store *Store, customerID string) error {
	defs := []tools.Definition{
		{
			Name:        "get_customer_record",
			Description: "Retrieve the current customer's profile information",
			Handler: func(ctx context.Context, _ map[string]interface{}) string {
				return store.GetCustomerRecord(ctx, customerID)
			},
		},
		{
			Name:        "update_customer_record",
			Description: "Update the current customer's profile information",
			Parameters: []tools.Parameter{
				{Name: "first_name", Type: "string", Description: "Customer's first name"},
				{Name: "last_name", Type: "string", Description: "Customer's last name"},
				{Name: "email", Type: "string", Description: "Customer's email address"},
				{Name: "address", Type: "string", Description: "Customer's address"},
				{Name: "phone_number", Type: "string", Description: "Customer's phone number"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) string {
				fields := map[string]string{}
				for key, value := range args {
					if s, ok := value.(string); ok {
						fields[key] = s
					}
				}
				return store.UpdateCustomerRecord(ctx, customerID, fields)
			},
		},
		{
			Name:        "get_product_record",
			Description: "Retrieve all products or a specific product from the catalog",
			Parameters: []tools.Parameter{
				{Name: "product_id", Type: "string", Description: "Optional product ID to look up"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) string {
				productID, _ := args["product_id"].(string)
				return store.GetProductRecord(ctx, productID)
			},
		},
		{
			Name:        "get_purchases_record",
			Description: "Retrieve all purchases for the current customer",
			Handler: func(ctx context.Context, _ map[string]interface{}) string {
				return store.GetPurchasesRecord(ctx, customerID)
			},
		},
		{
			Name:        "create_purchases_record",
			Description: "Create a new purchase record for the current customer",
			Parameters: []tools.Parameter{
				{Name: "product_id", Type: "string", Description: "The product ID to purchase"},
				{Name: "product_name", Type: "string", Description: "The product name, used when the ID is unknown"},
				{Name: "quantity", Type: "integer", Description: "Quantity to purchase, defaults to 1"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) string {
				return store.CreatePurchasesRecord(ctx, customerID, args)
			},
		},
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}
