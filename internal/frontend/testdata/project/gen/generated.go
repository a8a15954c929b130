package gen

func Generated() {}
