package repository

import "github.com/MTES-MCT/trackdechets-sub032/repository/models"

// DemoCompanies is the registry used by local setups and the benchmark client.
var DemoCompanies = []models.Company{
	{OrgID: "11111111100011", Name: "Garage Dupont", SecurityCode: "1234"},
	{OrgID: "22222222200022", Name: "Transports Martin", SecurityCode: "2345"},
	{OrgID: "33333333300033", Name: "Fret Ferroviaire", SecurityCode: "3456"},
	{OrgID: "44444444400044", Name: "Centre de tri Nord", SecurityCode: "4567"},
	{OrgID: "55555555500055", Name: "Incinérateur Est", SecurityCode: "5678"},
	{OrgID: "66666666600066", Name: "Eco-Organisme Pneus", SecurityCode: "6789", IsEcoOrganisme: true},
	{OrgID: "77777777700077", Name: "Désamiantage SA", SecurityCode: "7890"},
}
